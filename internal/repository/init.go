package repository

import (
	"gorm.io/gorm"

	"github.com/linkshield/cloaker/internal/models"
)

type Repositories struct {
	LinkRepository    LinkRepository
	VisitorRepository VisitorRepository
	DomainRepository  DomainRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		LinkRepository:    NewLinkRepository(db),
		VisitorRepository: NewVisitorRepository(db),
		DomainRepository:  NewDomainRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.CloakedLink{},
		&models.CloakerVisitor{},
		&models.CloakerDomain{},
	)
}
