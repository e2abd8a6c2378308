package cmd

import (
	"soundproof/config"
	"soundproof/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动SoundProof服务器",
	Long:  `启动SoundProof的HTTP服务器，提供REST API、播放会话WebSocket以及解密后的音频blob`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(config.Load())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
