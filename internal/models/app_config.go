package models

import (
	"gorm.io/gorm"
)

// AppConfig rows are the externally supplied policy store: fare floors,
// feature flags, the balance-check toggle. The core reads them and never
// writes back.
type AppConfig struct {
	gorm.Model
	Key   string `json:"key" gorm:"column:key;unique;not null"`
	Value string `json:"value" gorm:"column:value;not null"`
}

// TableName specifies the table name
func (AppConfig) TableName() string {
	return "app_configs"
}

// Well-known policy keys
const (
	ConfigFareIncrement       = "fare_increment"
	ConfigFareFloorEnforced   = "fare_floor_enforced"
	ConfigMinFareMale         = "min_fare_male"
	ConfigMinFareFemale       = "min_fare_female"
	ConfigBalanceCheckEnabled = "balance_check_enabled"
)
