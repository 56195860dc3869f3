package models

import (
	"fmt"

	"gorm.io/gorm"
)

func (d *Driver) AfterCreate(tx *gorm.DB) (err error) {
	description := fmt.Sprintf("Driver %q created.", d.Name)
	return createAuditRecord(tx, AuditActionCreate, d.ID, d.ID, "drivers", "", "", d.Name, "", description)
}

func (d *Driver) BeforeUpdate(tx *gorm.DB) (err error) {
	description := "Driver updated."
	if tx.Statement.Changed("Name") {
		newName := tx.Statement.Dest.(map[string]interface{})["Name"].(string)
		description += fmt.Sprintf(" Name changed from %q to %q.", d.Name, newName)
	}
	return createAuditRecord(tx, AuditActionUpdate, d.ID, d.ID, "drivers", "", "", "", "", description)
}

func (d *Driver) AfterDelete(tx *gorm.DB) (err error) {
	return createAuditRecord(tx, AuditActionDelete, d.ID, d.ID, "drivers", "", d.Name, "", "", "Deleted driver")
}
