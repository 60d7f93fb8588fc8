// Package main provides the requirement request server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// serverConfig is the resolved configuration of one server process.
type serverConfig struct {
	ListenAddr      string
	DatabaseType    string
	DatabaseDSN     string
	WorkflowConfig  string
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	WebhookURL     string
	WebhookHeaders map[string]string

	NATSURL           string
	NATSSubjectPrefix string
}

var cfgFile string

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "reqtrack-server",
		Short: "Serve the requirement request API",
		Long: `reqtrack-server hosts the requirement request approval workflow.

Every flag can also be set through a REQTRACK_ prefixed environment variable
(for example REQTRACK_DB_DSN) or a config file passed with --config.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(v, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "Path to a server config file (yaml, json or toml)")
	f.String("listen", ":8080", "Address to listen on")
	f.String("db-type", "sqlite", "Database type (sqlite, postgres or mysql)")
	f.String("db-dsn", "file:reqtrack.db?_pragma=busy_timeout(5000)", "Database connection string")
	f.String("workflow-config", "/config/workflow.yaml", "Path to the workflow config")
	f.StringSlice("cors-origins", []string{"https://*", "http://*"}, "Allowed CORS origins")
	f.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	f.String("smtp-host", "", "SMTP relay host; empty disables email")
	f.Int("smtp-port", 25, "SMTP relay port")
	f.String("smtp-username", "", "SMTP username")
	f.String("smtp-password", "", "SMTP password")
	f.String("smtp-from", "", "Envelope sender address")
	f.String("webhook-url", "", "URL receiving notification JSON; empty disables the webhook")
	f.StringToString("webhook-header", nil, "Extra webhook headers (key=value)")
	f.String("nats-url", "", "NATS server URL; empty disables publishing")
	f.String("nats-subject-prefix", "reqtrack.notifications", "NATS subject prefix")

	cmd.Flags().AddGoFlagSet(flag.CommandLine)
	return cmd
}

func loadServerConfig(v *viper.Viper, fs *pflag.FlagSet) (*serverConfig, error) {
	v.SetEnvPrefix("REQTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgFile, err)
		}
	}

	return &serverConfig{
		ListenAddr:        v.GetString("listen"),
		DatabaseType:      strings.ToLower(v.GetString("db-type")),
		DatabaseDSN:       v.GetString("db-dsn"),
		WorkflowConfig:    v.GetString("workflow-config"),
		CORSOrigins:       v.GetStringSlice("cors-origins"),
		ShutdownTimeout:   v.GetDuration("shutdown-timeout"),
		SMTPHost:          v.GetString("smtp-host"),
		SMTPPort:          v.GetInt("smtp-port"),
		SMTPUsername:      v.GetString("smtp-username"),
		SMTPPassword:      v.GetString("smtp-password"),
		SMTPFrom:          v.GetString("smtp-from"),
		WebhookURL:        v.GetString("webhook-url"),
		WebhookHeaders:    v.GetStringMapString("webhook-header"),
		NATSURL:           v.GetString("nats-url"),
		NATSSubjectPrefix: v.GetString("nats-subject-prefix"),
	}, nil
}

func main() {
	// glog writes fatal startup errors to stderr.
	_ = flag.Set("logtostderr", "true")

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
