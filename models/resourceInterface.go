package models

func (d Driver) GetBusinessId() string {
	return d.BusinessId
}

func (r DriverReceivable) GetBusinessId() string {
	return r.BusinessId
}

func (e SaleEvent) GetBusinessId() string {
	return e.BusinessId
}

func (e DriverLedgerEntry) GetBusinessId() string {
	return e.BusinessId
}

func (s BaselineSnapshot) GetBusinessId() string {
	return s.BusinessId
}

func (r BaselineRecord) GetBusinessId() string {
	return r.BusinessId
}

func (a AuditRecord) GetBusinessId() string {
	return a.BusinessId
}

func (r LedgerEventRecord) GetBusinessId() string {
	return r.BusinessId
}

func (u User) GetBusinessId() string {
	return u.BusinessId
}
