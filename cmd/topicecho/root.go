package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infigaming-com/go-tcpros/config"
	"github.com/infigaming-com/go-tcpros/logging"
	"github.com/infigaming-com/go-tcpros/msgs"
)

type rootFlags struct {
	configPath string
	nodeName   string
	host       string
	port       int
	topic      string
	typeName   string
	md5sum     string
	count      int
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "topicecho",
		Short: "Print messages from TCPROS publishers",
		Long: `topicecho connects straight to publishers whose host and port are already
known, performs the TCPROS handshake and prints every message it receives.

Publishers come from a TOML file (--config) and/or a single publisher given
on the command line. std_msgs/String is printed as text, every other type as
hex. A dropped connection is retried with backoff; a handshake mismatch or a
publisher rejection is not.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			logger, done := logging.NewLogger()
			defer done()
			logger.Info("starting", zap.String("node", cfg.NodeName), zap.Int("publishers", len(cfg.Publishers)))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, echoDeps{
				logger: logger,
				out:    cmd.OutOrStdout(),
				count:  flags.count,
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	f.StringVar(&flags.nodeName, "node", "", "caller id to present (default: anonymous /topicecho_<id>)")
	f.StringVar(&flags.host, "host", "", "publisher host")
	f.IntVar(&flags.port, "port", 0, "publisher port")
	f.StringVar(&flags.topic, "topic", "", "topic name")
	f.StringVar(&flags.typeName, "type", msgs.StringType, "message type")
	f.StringVar(&flags.md5sum, "md5sum", "", "message md5sum (default: known for std_msgs/String)")
	f.IntVarP(&flags.count, "count", "n", 0, "exit after this many messages per publisher (0: run until interrupted)")

	return cmd
}

// loadConfig merges the config file, the environment and the flags, flags
// last.
func loadConfig(flags rootFlags) (config.Config, error) {
	var cfg config.Config
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		if err := config.ApplyEnv(&cfg); err != nil {
			return config.Config{}, err
		}
	}

	if flags.nodeName != "" {
		cfg.NodeName = flags.nodeName
	}
	if flags.host != "" || flags.topic != "" {
		cfg.Publishers = append(cfg.Publishers, config.Publisher{
			Topic:  flags.topic,
			Type:   flags.typeName,
			MD5Sum: flags.md5sum,
			Host:   flags.host,
			Port:   flags.port,
		})
	}
	if flags.count < 0 {
		return config.Config{}, fmt.Errorf("--count must not be negative, got %d", flags.count)
	}

	for i := range cfg.Publishers {
		p := &cfg.Publishers[i]
		if p.MD5Sum == "" && p.Type == msgs.StringType {
			p.MD5Sum = msgs.StringMD5Sum
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if len(cfg.Publishers) == 0 {
		return config.Config{}, errors.New("no publishers: pass --host/--port/--topic or a --config file")
	}
	for i, p := range cfg.Publishers {
		if p.MD5Sum == "" {
			return config.Config{}, fmt.Errorf("publisher[%d] %s: md5sum is required for type %s", i, p.Topic, p.Type)
		}
	}
	return cfg, nil
}
