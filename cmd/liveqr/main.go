// liveqr 运维命令行：创建管理员、设置积分、执行迁移
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ns2250225/live-qrcode/config"
	"github.com/ns2250225/live-qrcode/internal/repository"
	"github.com/ns2250225/live-qrcode/internal/service"
	"github.com/ns2250225/live-qrcode/pkg/database"
	applogger "github.com/ns2250225/live-qrcode/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// env 命令执行所需的公共依赖
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func (e *env) close() {
	if sqlDB, _ := e.db.DB(); sqlDB != nil {
		sqlDB.Close()
	}
	_ = e.logger.Sync()
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "liveqr",
		Short:        "活码服务运维工具",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径")

	setup := func(migrate bool) (*env, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger, err := applogger.NewLogger(&cfg.Log)
		if err != nil {
			return nil, err
		}
		db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
		if err != nil {
			return nil, err
		}
		if migrate {
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			if err := database.RunMigrations(sqlDB, logger); err != nil {
				return nil, err
			}
		}
		return &env{cfg: cfg, logger: logger, db: db}, nil
	}

	root.AddCommand(
		newCreateAdminCmd(setup),
		newSetPointsCmd(setup),
		newMigrateCmd(setup),
	)
	return root
}

type setupFunc func(migrate bool) (*env, error)

func newCreateAdminCmd(setup setupFunc) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "创建管理员，邮箱已存在时提升为管理员并重置密码",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()

			ops := service.NewOperatorService(e.cfg, repository.NewRepository(e.db), e.logger)
			created, err := ops.EnsureAdmin(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "管理员 %s 已创建\n", email)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "用户 %s 已提升为管理员\n", email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "管理员邮箱")
	cmd.Flags().StringVar(&password, "password", "", "管理员密码")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSetPointsCmd(setup setupFunc) *cobra.Command {
	var email string
	var points int

	cmd := &cobra.Command{
		Use:   "set-points",
		Short: "按邮箱设置用户积分",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(false)
			if err != nil {
				return err
			}
			defer e.close()

			ops := service.NewOperatorService(e.cfg, repository.NewRepository(e.db), e.logger)
			if err := ops.SetPointsByEmail(cmd.Context(), email, points); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s 的积分已设为 %d\n", email, points)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "用户邮箱")
	cmd.Flags().IntVar(&points, "points", 0, "积分")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func newMigrateCmd(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行数据库迁移",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Fprintln(cmd.OutOrStdout(), "迁移完成")
			return nil
		},
	}
}
