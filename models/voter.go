package models

import (
	"time"
)

// Voter is a seat on the eligible-voter roster.
type Voter struct {
	VoterID  string    `gorm:"primaryKey;size:256" json:"voterId" mapstructure:"voterId"`
	Weight   float64   `json:"weight" mapstructure:"weight"`
	SeatedAt time.Time `json:"seatedAt" mapstructure:"seatedAt"`
}

// TableName - Return table name
func (t Voter) TableName() string {
	return "voters"
}
