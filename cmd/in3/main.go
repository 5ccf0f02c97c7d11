package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/incubed/in3-go/cmd/in3/commands"
	"github.com/incubed/in3-go/config"
	"github.com/incubed/in3-go/libs/cli"
	"github.com/incubed/in3-go/libs/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf := config.DefaultConfig()
	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.MakeCallCommand(conf, logger, commands.DefaultClientProvider),
		commands.MakeNodesCommand(conf, logger, commands.DefaultClientProvider),
		commands.MakeProxyCommand(conf, logger, commands.DefaultClientProvider),
		commands.VersionCmd,
	)

	code := cli.Exit(os.Stderr, rcmd.ExecuteContext(ctx))
	stop()
	os.Exit(code)
}
