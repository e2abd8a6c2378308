package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"soundproof/config"
	"soundproof/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioDelete    bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO镜像管理",
	Long:  `查看和管理MinIO中按CID镜像的IPFS内容，支持列出文件、查看统计信息、按目录分组显示、删除前缀等功能。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		// 加载配置
		cfg := config.Load()
		if !cfg.MirrorEnabled() {
			log.Fatal("未配置MINIO_ENDPOINT，镜像功能未启用")
		}
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := context.Background()
		mirror, err := storage.NewMirror(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		// 根据参数执行不同的操作
		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除前缀: %s\n", minioPrefix)
			removed, err := mirror.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除失败 (已删除 %d 个对象): %v", removed, err)
			}
			fmt.Printf("已删除 %d 个对象\n", removed)
			fmt.Println("\nMinIO操作完成！")
			return
		}

		objects, stats, err := mirror.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		switch {
		case minioStats:
			fmt.Println("\n存储桶统计信息:")
			fmt.Printf("  对象数量: %d\n", stats.TotalObjects)
			fmt.Printf("  总大小:   %s\n", storage.FormatSize(stats.TotalSize))
			if stats.TotalObjects > 0 {
				fmt.Printf("  最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
		case minioRecursive:
			// 按目录分组
			fmt.Printf("\n目录结构 (前缀: %s):\n", minioPrefix)
			lastDir := ""
			for _, obj := range objects {
				dir, name := "/", obj.Key
				if i := strings.LastIndex(obj.Key, "/"); i >= 0 {
					dir, name = obj.Key[:i+1], obj.Key[i+1:]
				}
				if dir != lastDir {
					fmt.Printf("📁 %s\n", dir)
					lastDir = dir
				}
				fmt.Printf("    📄 %s (%s)\n", name, storage.FormatSize(obj.Size))
			}
		default:
			fmt.Printf("\n镜像中的文件 (前缀: %s):\n", minioPrefix)
			for _, obj := range objects {
				fmt.Printf("  %-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("共 %d 个对象\n", len(objects))
		}

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "对象前缀")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "按目录分组显示")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定前缀下的所有对象")
	rootCmd.AddCommand(minioCmd)

	minioCmd.Example = `  # 列出所有镜像文件
  soundproof minio

  # 显示统计信息
  soundproof minio -s

  # 按目录分组显示
  soundproof minio -r -p "ipfs/"

  # 删除前缀下的所有对象
  soundproof minio -d -p "ipfs/bafy"`
}
