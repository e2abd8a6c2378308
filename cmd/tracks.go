package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"soundproof/config"
	"soundproof/db"
	"soundproof/model"
	"soundproof/repository"
	"soundproof/storage"

	"github.com/spf13/cobra"
)

var (
	tracksKeyword string
	tracksGenre   string
	tracksPopular bool
	tracksLimit   int
)

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "查看数据库中的歌曲",
	Long:  `列出最新或最热门的歌曲，也可以按关键词或流派搜索，并显示对应的IPFS网关地址。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if err := db.ConnectGormDB(cfg); err != nil {
			log.Fatalf("无法连接到数据库: %v", err)
		}
		defer db.CloseGormDB()

		repo := repository.NewGormTrackRepository(db.GormDB)
		ctx := context.Background()

		var (
			tracks []*model.Track
			err    error
		)
		switch {
		case tracksKeyword != "":
			fmt.Printf("正在搜索: %s\n", tracksKeyword)
			tracks, err = repo.Search(ctx, tracksKeyword, tracksLimit)
		case tracksGenre != "":
			fmt.Printf("流派: %s\n", tracksGenre)
			tracks, err = repo.GetByGenre(ctx, tracksGenre, tracksLimit)
		case tracksPopular:
			fmt.Println("最热门的歌曲:")
			tracks, err = repo.GetPopular(ctx, tracksLimit, 0)
		default:
			fmt.Println("最新上传的歌曲:")
			tracks, err = repo.GetRecent(ctx, tracksLimit, 0)
		}
		if err != nil {
			log.Fatalf("查询失败: %v", err)
		}

		if len(tracks) == 0 {
			fmt.Println("未找到相关歌曲")
			return
		}

		gateway := storage.NewLighthouse(cfg)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\t标题\t艺术家\t上传者\t播放\t访问\t地址")
		for _, t := range tracks {
			access := "公开"
			if t.IsEncrypted {
				access = string(t.AccessRule.Type)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t@%s\t%d\t%s\t%s\n",
				t.ID, t.Title, t.Artist, t.UploaderUsername, t.PlayCount, access, gateway.URL(t.CID))
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tracksCmd)

	// 添加命令行参数
	tracksCmd.Flags().StringVarP(&tracksKeyword, "keyword", "k", "", "按标题、艺术家或流派搜索")
	tracksCmd.Flags().StringVarP(&tracksGenre, "genre", "g", "", "按流派过滤")
	tracksCmd.Flags().BoolVarP(&tracksPopular, "popular", "p", false, "按播放次数排序")
	tracksCmd.Flags().IntVarP(&tracksLimit, "limit", "l", 20, "返回结果数量")
}
