package models

import (
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(int) Data
}

// interface for list-valued dataloader results; each record points back to
// its owning driver
type RelatedData interface {
	GetReferenceId() int
}

// key
func (d Driver) GetId() int {
	return d.ID
}

func (d Driver) GetDefault(id int) Data {
	return Driver{
		ID:         id,
		Name:       "unknown driver",
		DriverType: DriverTypeRetail,
		IsActive:   utils.NewFalse(),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func (r DriverReceivable) GetId() int {
	return r.ID
}

func (r DriverReceivable) GetDefault(id int) Data {
	return DriverReceivable{
		ID:        id,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (e SaleEvent) GetId() int {
	return e.ID
}

func (s BaselineSnapshot) GetId() int {
	return s.ID
}

func (u User) GetId() int {
	return u.ID
}
