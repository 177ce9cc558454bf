package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// 收到信号后取消 context，正在处理的订阅源写完当前文件后停止
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
