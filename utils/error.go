package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Returned by model hooks of write-once tables (baseline snapshots, audit records).
var ErrorRecordImmutable = errors.New("record is immutable")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
