package ledger

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.store",
	fx.Provide(
		NewUserRepository,
		NewEventRepository,
	),
	fx.Invoke(Migrate),
)

// Migrate keeps the schema current at startup.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &StakeTransaction{}, &EventState{})
}
