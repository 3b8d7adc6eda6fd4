// Package status defines the result codes returned across the session boundary and the reason codes recorded for
// every aborted transaction.
package status

import "fmt"

// Status is the result of an engine operation.
//
// Warnings leave the transaction as it was. Errors mean the transaction was already aborted when the call returned.
// The remaining codes report misuse or resource exhaustion and never abort anything.
type Status int

const (
	OK Status = iota

	WarnNotFound
	WarnAlreadyExists
	WarnReadFromOwnOperation
	WarnAlreadyDelete
	WarnScanLimit
	WarnInvalidHandle
	WarnWriteToLocalWrite
	WarnConcurrentInsert
	WarnConcurrentUpdate
	WarnPremature
	WarnWaitingForOtherTx
	WarnAlreadyBegin
	WarnNotBegin
	WarnStorageNotFound
	WarnInvalidArgs

	ErrCC
	ErrValidation
	ErrPhantom
	ErrWriteToDeletedRecord
	ErrWriteWithoutWP
	ErrReadAreaViolation
	ErrWriteOnReadOnly

	ErrSessionLimit
	ErrInvalidToken
	ErrFatal
	ErrStorageExists
)

var statusNames = map[Status]string{
	OK:                       "OK",
	WarnNotFound:             "WARN_NOT_FOUND",
	WarnAlreadyExists:        "WARN_ALREADY_EXISTS",
	WarnReadFromOwnOperation: "WARN_READ_FROM_OWN_OPERATION",
	WarnAlreadyDelete:        "WARN_ALREADY_DELETE",
	WarnScanLimit:            "WARN_SCAN_LIMIT",
	WarnInvalidHandle:        "WARN_INVALID_HANDLE",
	WarnWriteToLocalWrite:    "WARN_WRITE_TO_LOCAL_WRITE",
	WarnConcurrentInsert:     "WARN_CONCURRENT_INSERT",
	WarnConcurrentUpdate:     "WARN_CONCURRENT_UPDATE",
	WarnPremature:            "WARN_PREMATURE",
	WarnWaitingForOtherTx:    "WARN_WAITING_FOR_OTHER_TX",
	WarnAlreadyBegin:         "WARN_ALREADY_BEGIN",
	WarnNotBegin:             "WARN_NOT_BEGIN",
	WarnStorageNotFound:      "WARN_STORAGE_NOT_FOUND",
	WarnInvalidArgs:          "WARN_INVALID_ARGS",
	ErrCC:                    "ERR_CC",
	ErrValidation:            "ERR_VALIDATION",
	ErrPhantom:               "ERR_PHANTOM",
	ErrWriteToDeletedRecord:  "ERR_WRITE_TO_DELETED_RECORD",
	ErrWriteWithoutWP:        "ERR_WRITE_WITHOUT_WP",
	ErrReadAreaViolation:     "ERR_READ_AREA_VIOLATION",
	ErrWriteOnReadOnly:       "ERR_WRITE_ON_READ_ONLY",
	ErrSessionLimit:          "ERR_SESSION_LIMIT",
	ErrInvalidToken:          "ERR_INVALID_TOKEN",
	ErrFatal:                 "ERR_FATAL",
	ErrStorageExists:         "ERR_STORAGE_EXISTS",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

func (s Status) IsOK() bool {
	return s == OK
}

func (s Status) IsWarning() bool {
	return s >= WarnNotFound && s <= WarnInvalidArgs
}

// IsError reports whether the status means the transaction was aborted.
func (s Status) IsError() bool {
	return s >= ErrCC && s <= ErrWriteOnReadOnly
}

// IsFatal reports misuse or resource exhaustion.
func (s Status) IsFatal() bool {
	return s >= ErrSessionLimit
}

// Reason explains why a transaction was aborted.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonUserAbort
	ReasonOccReadVerify
	ReasonOccWPVerify
	ReasonOccPhantom
	ReasonOccInsertConflict
	ReasonOccDeletedRecord
	ReasonLtxReadUpperBound
	ReasonLtxReadByOcc
	ReasonLtxWriteConflict
	ReasonLtxInsertConflict
	ReasonLtxDeletedRecord
	ReasonWriteWithoutWP
	ReasonReadAreaViolation
	ReasonWriteOnReadOnly
	ReasonRecordReclaimed
)

var reasonNames = [...]string{
	ReasonUnknown:           "UNKNOWN",
	ReasonUserAbort:         "USER_ABORT",
	ReasonOccReadVerify:     "CC_OCC_READ_VERIFY",
	ReasonOccWPVerify:       "CC_OCC_WP_VERIFY",
	ReasonOccPhantom:        "CC_OCC_PHANTOM_AVOIDANCE",
	ReasonOccInsertConflict: "CC_OCC_INSERT_CONFLICT",
	ReasonOccDeletedRecord:  "KVS_DELETE_RECORD",
	ReasonLtxReadUpperBound: "CC_LTX_READ_UPPER_BOUND_VIOLATION",
	ReasonLtxReadByOcc:      "CC_LTX_WRITE_READ_BY_OCC",
	ReasonLtxWriteConflict:  "CC_LTX_WRITE_CONFLICT",
	ReasonLtxInsertConflict: "CC_LTX_INSERT_CONFLICT",
	ReasonLtxDeletedRecord:  "CC_LTX_WRITE_DELETED_RECORD",
	ReasonWriteWithoutWP:    "WRITE_WITHOUT_WRITE_PRESERVE",
	ReasonReadAreaViolation: "CC_LTX_READ_AREA_VIOLATION",
	ReasonWriteOnReadOnly:   "WRITE_ON_READ_ONLY",
	ReasonRecordReclaimed:   "CC_RECORD_RECLAIMED",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("REASON(%d)", int(r))
}

// ResultInfo describes the outcome of the last transaction of a session.
type ResultInfo struct {
	Reason      Reason
	Key         []byte
	StorageName string
}

func (ri ResultInfo) String() string {
	return fmt.Sprintf("reason:%s storage:%q key:%q", ri.Reason, ri.StorageName, ri.Key)
}
