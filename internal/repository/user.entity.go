package repository

import (
	"time"

	"github.com/rewardsys/rewards-core/internal/model"
)

type UserEntity struct {
	ID           int64     `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	GmemeBalance uint      `db:"gmeme_balance" gorm:"column:gmeme_balance;not null;default:0"`
	TonBalance   uint      `db:"ton_balance"   gorm:"column:ton_balance;not null;default:0"`
	CreatedAt    time.Time `db:"created_at"    gorm:"column:created_at;autoCreateTime"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:           m.ID,
		GmemeBalance: m.GmemeBalance,
		TonBalance:   m.TonBalance,
		CreatedAt:    m.CreatedAt,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:           e.ID,
		GmemeBalance: e.GmemeBalance,
		TonBalance:   e.TonBalance,
		CreatedAt:    e.CreatedAt,
	}
}

func balanceColumn(c model.Currency) string {
	if c == model.CurrencyTon {
		return "ton_balance"
	}
	return "gmeme_balance"
}
