package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"soundproof/cache"
	"soundproof/config"
	"soundproof/core/audio"
	"soundproof/core/taco"
	"soundproof/core/upload"
	"soundproof/db"
	"soundproof/repository"
	"soundproof/storage"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	uploadFID      int64
	uploadUsername string
	uploadTitle    string
	uploadArtist   string
	uploadGenre    string
	uploadWatchDir string
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file...]",
	Short: "上传公开歌曲到IPFS",
	Long: `读取本地音频文件，固定到Lighthouse并写入歌曲记录。
加密歌曲需要钱包签名，只能通过 /api/upload 上传。
使用 --watch 监听目录，新放入的音频文件会自动上传。`,
	Run: func(cmd *cobra.Command, args []string) {
		if uploadFID <= 0 {
			log.Fatal("请使用 --fid 指定上传者")
		}
		if len(args) == 0 && uploadWatchDir == "" {
			log.Fatal("请指定要上传的文件或 --watch 目录")
		}

		cfg := config.Load()
		svc, cleanup := newUploadService(cfg)
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for _, path := range args {
			if err := uploadFile(ctx, svc, path, uploadTitle, uploadArtist); err != nil {
				log.Fatalf("上传失败: %v", err)
			}
		}

		if uploadWatchDir == "" {
			return
		}
		fmt.Printf("正在监听目录: %s (Ctrl+C 退出)\n", uploadWatchDir)
		watcher := upload.NewWatcher(uploadWatchDir, 2*time.Second, func(ctx context.Context, path string) error {
			// 标题和艺术家取自标签或文件名
			return uploadFile(ctx, svc, path, "", "")
		})
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("监听失败: %v", err)
		}
		fmt.Println("\n已停止监听")
	},
}

func newUploadService(cfg *config.Config) (*upload.Service, func()) {
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("无法连接到数据库: %v", err)
	}
	closers := []func(){func() { db.CloseGormDB() }}

	var store cache.Store
	if err := cache.ConnectRedis(cfg); err != nil {
		store = cache.NewMemoryStore()
	} else {
		store = cache.NewRedisStore(cache.RedisClient)
		closers = append(closers, func() { cache.CloseRedis() })
	}

	var mirror storage.ObjectMirror
	if cfg.MirrorEnabled() {
		if m, err := storage.NewMirror(context.Background(), cfg); err != nil {
			fmt.Printf("MinIO镜像不可用: %v\n", err)
		} else {
			mirror = m
		}
	}

	lighthouse := storage.NewLighthouse(cfg)
	svc := upload.NewService(
		storage.NewContentStore(lighthouse, lighthouse, mirror),
		taco.NewClient(cfg),
		repository.NewGormTrackRepository(db.GormDB),
		audio.NewFFprobe(cfg.FFprobePath),
		cache.NewTrackCache(store, cfg.CacheTTL),
	)
	return svc, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// readWithProgress reads path into memory behind a byte progress bar.
func readWithProgress(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > upload.MaxFileSize {
		return nil, fmt.Errorf("%s 超过 %s 上限", filepath.Base(path), storage.FormatSize(upload.MaxFileSize))
	}

	var buf bytes.Buffer
	buf.Grow(int(info.Size()))
	bar := progressbar.DefaultBytes(info.Size(), "读取 "+filepath.Base(path))
	if _, err := io.Copy(io.MultiWriter(&buf, bar), f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uploadFile(ctx context.Context, svc *upload.Service, path, title, artist string) error {
	data, err := readWithProgress(path)
	if err != nil {
		return err
	}
	contentType, _ := audio.ContentType(path, "")

	fmt.Printf("正在固定到IPFS: %s\n", filepath.Base(path))
	track, err := svc.Upload(ctx, upload.Request{
		Audio:            upload.File{Name: filepath.Base(path), ContentType: contentType, Data: data},
		Title:            title,
		Artist:           artist,
		Genre:            uploadGenre,
		UploaderFID:      uploadFID,
		UploaderUsername: uploadUsername,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	fmt.Printf("上传成功: #%d %s - %s (CID: %s)\n", track.ID, track.Artist, track.Title, track.CID)
	return nil
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	// 添加命令行参数
	uploadCmd.Flags().Int64VarP(&uploadFID, "fid", "f", 0, "上传者的Farcaster FID")
	uploadCmd.Flags().StringVarP(&uploadUsername, "username", "u", "", "上传者的Farcaster用户名")
	uploadCmd.Flags().StringVarP(&uploadTitle, "title", "t", "", "歌曲标题，默认取自标签或文件名")
	uploadCmd.Flags().StringVarP(&uploadArtist, "artist", "a", "", "艺术家，默认取自标签或文件名")
	uploadCmd.Flags().StringVarP(&uploadGenre, "genre", "g", "", "流派")
	uploadCmd.Flags().StringVarP(&uploadWatchDir, "watch", "w", "", "监听目录并自动上传新文件")
}
