package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"soundproof/config"
	"soundproof/core/analytics"

	"github.com/spf13/cobra"
)

var (
	playsGroup   string
	playsTrackID int64
)

var playsCmd = &cobra.Command{
	Use:   "plays",
	Short: "实时查看播放事件",
	Long:  `从Kafka消费播放事件并打印，可按歌曲过滤。按 Ctrl+C 退出时输出本次统计。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if len(cfg.KafkaBrokers) == 0 {
			log.Fatal("未配置KAFKA_BROKERS")
		}
		fmt.Printf("Kafka: %v, Topic: %s, Group: %s\n", cfg.KafkaBrokers, cfg.KafkaTopic, playsGroup)

		consumer := analytics.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, playsGroup)
		defer consumer.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		counts := make(map[int64]int)
		err := consumer.Consume(ctx, func(msg analytics.PlayMessage) error {
			if playsTrackID > 0 && msg.TrackID != playsTrackID {
				return nil
			}
			listener := "匿名"
			if msg.ListenerFID > 0 {
				listener = fmt.Sprintf("fid %d", msg.ListenerFID)
			}
			if msg.Type == "listen" {
				fmt.Printf("[%s] 歌曲 #%d 收听 %.1f 秒 (%s)\n",
					msg.PlayedAt.Format("15:04:05"), msg.TrackID, msg.Seconds, listener)
				return nil
			}
			counts[msg.TrackID]++
			fmt.Printf("[%s] 歌曲 #%d 被播放 (%s, 累计 %d 次, 加密: %v)\n",
				msg.PlayedAt.Format("15:04:05"), msg.TrackID, listener, msg.PlayCount, msg.Encrypted)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			log.Fatalf("消费失败: %v", err)
		}

		fmt.Println("\n本次统计:")
		for id, n := range counts {
			fmt.Printf("  歌曲 #%d: %d 次\n", id, n)
		}
	},
}

func init() {
	rootCmd.AddCommand(playsCmd)

	playsCmd.Flags().StringVar(&playsGroup, "group", "soundproof-cli", "Kafka消费组")
	playsCmd.Flags().Int64VarP(&playsTrackID, "track", "t", 0, "只显示指定歌曲")
}
