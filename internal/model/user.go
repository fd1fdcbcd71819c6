package model

import "time"

// Currency is one of the two balances a user holds.
type Currency string

const (
	CurrencyGmeme Currency = "gmeme"
	CurrencyTon   Currency = "ton"
)

func (c Currency) Valid() bool {
	return c == CurrencyGmeme || c == CurrencyTon
}

type User struct {
	ID           int64     `json:"id"            db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	GmemeBalance uint      `json:"gmeme_balance" db:"gmeme_balance" gorm:"column:gmeme_balance;not null;default:0"`
	TonBalance   uint      `json:"ton_balance"   db:"ton_balance"   gorm:"column:ton_balance;not null;default:0"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"    gorm:"column:created_at;autoCreateTime"`
}

func (User) TableName() string { return "users" }

// Balance returns the counter for the given currency.
func (u *User) Balance(c Currency) uint {
	if c == CurrencyTon {
		return u.TonBalance
	}
	return u.GmemeBalance
}

func (u *User) SetBalance(c Currency, v uint) {
	if c == CurrencyTon {
		u.TonBalance = v
		return
	}
	u.GmemeBalance = v
}
