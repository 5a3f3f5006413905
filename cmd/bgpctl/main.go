package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charlesren/bgp_peer_manager/connection"
	"github.com/charlesren/bgp_peer_manager/internal/config"
	"github.com/charlesren/ylog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

const defaultConfigPath = "../conf/bgpctl.yml"

// app 子命令共享的运行状态
type app struct {
	v   *viper.Viper
	cfg *config.Config

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	envFile    string

	// readPassword 为nil时不提示输入密码
	readPassword func(prompt string) (string, error)
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	v := viper.New()
	config.SetDefaults(v)
	return &app{v: v, in: in, out: out, errOut: errOut}
}

func newRootCmd() *cobra.Command {
	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	a.readPassword = terminalPassword
	return newRootCmdWith(a)
}

func newRootCmdWith(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bgpctl",
		Short:         "Inspect and deactivate BGP peers on Junos routers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if data, err := json.Marshal(connection.GetGlobalMetricsCollector().GetMetrics()); err == nil {
				ylog.Debugf("Main", "session metrics: %s", data)
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", defaultConfigPath, "config file path")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file with BGPCTL_* variables")
	pf.String("host", "", "router address")
	pf.Int("port", 0, "router port, required (netconf usually 830, ssh and scrapli 22)")
	pf.StringP("username", "u", "", "router username")
	pf.StringP("password", "p", "", "router password (prefer BGPCTL_DEVICE_PASSWORD)")
	pf.String("protocol", "", "session protocol: netconf, scrapli or ssh")
	pf.Int("retries", 0, "connect retries for queries")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-file", "", "log file path")
	pf.String("audit-db", "", "audit database path")

	bindings := map[string]string{
		"device.host":     "host",
		"device.port":     "port",
		"device.username": "username",
		"device.password": "password",
		"device.protocol": "protocol",
		"connect.retries": "retries",
		"log.level":       "log-level",
		"log.file":        "log-file",
		"audit.path":      "audit-db",
	}
	for key, flag := range bindings {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.AddCommand(newPeersCmd(a), newDeactivateCmd(a), newAuditCmd(a))
	return rootCmd
}

// initConfig 依次加载 .env、配置文件、BGPCTL_* 环境变量和命令行参数，后者优先
func (a *app) initConfig(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", a.envFile, err)
		}
	}

	a.v.SetEnvPrefix("BGPCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if a.configPath != "" {
		a.v.SetConfigFile(a.configPath)
		if err := a.v.ReadInConfig(); err != nil {
			// 未显式指定时允许默认配置文件不存在
			if cmd.Flags().Changed("config") || !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("read config %s: %w", a.configPath, err)
			}
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return initLog(cfg.Log)
}

// sessionConfig 未配置密码时在终端提示输入，然后构造并校验会话配置
func (a *app) sessionConfig() (*connection.SessionConfig, error) {
	d := &a.cfg.Device
	if d.Password == "" && d.Host != "" && d.Username != "" && a.readPassword != nil {
		password, err := a.readPassword(fmt.Sprintf("Password for %s@%s: ", d.Username, d.Host))
		if err != nil {
			return nil, err
		}
		d.Password = password
	}
	return a.cfg.SessionConfig()
}

// terminalPassword 关闭回显读取密码；stdin不是终端时返回空串，由配置校验报告缺少密码
func terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func initLog(lc config.LogConfig) error {
	level, err := lc.YLogLevel()
	if err != nil {
		return err
	}
	logger := ylog.NewYLog(
		ylog.WithLogFile(lc.File),
		ylog.WithMaxAge(lc.MaxAge),
		ylog.WithMaxSize(lc.MaxSize),
		ylog.WithMaxBackups(lc.MaxBackups),
		ylog.WithLevel(level),
	)
	ylog.InitLogger(logger)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
