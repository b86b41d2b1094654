package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/betbot/botfleet/pkg/fleetclient"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	_ = godotenv.Load()

	def := os.Getenv("FLEET_URL")
	if def == "" {
		def = "http://localhost:5000"
	}
	op := os.Getenv("FLEET_OPERATOR")
	if op == "" {
		op = "rabbit0009"
	}
	serverURL := flag.String("server", def, "fleet API 地址")
	operator := flag.String("operator", op, "F 键让全体跟随的玩家")
	flag.Parse()

	// 终端被 TUI 占用，日志只写文件
	logrus.SetOutput(&lumberjack.Logger{Filename: "logs/fleet-tui.log", MaxSize: 10, MaxBackups: 1})
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})

	client := fleetclient.New(*serverURL)
	p := tea.NewProgram(newModel(client, *operator), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "运行程序失败:", err)
		os.Exit(1)
	}
}
