package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/mohitkumar/txflow/container"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/rest"
	"github.com/mohitkumar/txflow/sandbox"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func (c *cli) serveCommand() (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve flows over http on top of the sandbox chain",
		RunE:  c.serve,
	}
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	return cmd, viper.BindPFlags(cmd.Flags())
}

func (c *cli) serve(cmd *cobra.Command, args []string) error {
	chain := sandbox.NewChain(c.script)
	diContainer := container.NewDiContainer(chain.Collaborators())
	diContainer.Init(c.cfg.Config)

	server, err := rest.NewServer(c.cfg.HttpPort, diContainer.NewFlowMachine, diContainer.GetReconciler())
	if err != nil {
		return err
	}
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return server.Stop()
}
