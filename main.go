package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/database"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/server"
	"gorm.io/gorm"
)

func main() {
	app := &cli.App{
		Name:  "cloaker",
		Usage: "traffic cloaking decision engine",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(c *cli.Context) error {
					_, db, err := setup()
					if err != nil {
						return err
					}
					if err := repository.MigrateDB(db); err != nil {
						return err
					}
					log.Println("Database migration completed successfully")
					return nil
				},
			},
			{
				Name:  "server",
				Usage: "Start the application server",
				Action: func(c *cli.Context) error {
					cfg, db, err := setup()
					if err != nil {
						return err
					}

					log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
					log.Println("Cloaker starting up...")

					srv, err := server.NewServer(cfg, db)
					if err != nil {
						return err
					}
					if err := srv.Run(); err != nil {
						return err
					}

					log.Println("Shutdown complete")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, *gorm.DB, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := database.InitCloakerDatabase(&database.DatabaseConfig{
		DBName:          cfg.CloakerDatabaseConfig.DBName,
		Host:            cfg.CloakerDatabaseConfig.Host,
		Port:            cfg.CloakerDatabaseConfig.Port,
		User:            cfg.CloakerDatabaseConfig.User,
		Password:        cfg.CloakerDatabaseConfig.Password,
		MaxConn:         cfg.CloakerDatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.CloakerDatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.CloakerDatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.CloakerDatabaseConfig.LogLevel,
		SSLMode:         cfg.CloakerDatabaseConfig.SSLMode,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
