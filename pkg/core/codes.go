package core

// FileMaker Data API error codes. The API reports these as decimal strings in
// the messages array of every response envelope; code 0 means success.
//
// Only the codes the client inspects are named here. The full table lives in
// docs/fm-error-codes.md (kept in sync by scripts/syncfmerrdocs).
const (
	// CodeOK indicates a successful call.
	CodeOK = 0
	// CodeFileMissing indicates the target database file is missing.
	CodeFileMissing = 100
	// CodeRecordMissing indicates the requested record does not exist.
	CodeRecordMissing = 101
	// CodeFieldMissing indicates a referenced field does not exist on the layout.
	CodeFieldMissing = 102
	// CodeScriptMissing indicates the named script does not exist.
	CodeScriptMissing = 104
	// CodeLayoutMissing indicates the named layout does not exist.
	CodeLayoutMissing = 105
	// CodeInvalidAccount indicates login failed due to bad credentials.
	CodeInvalidAccount = 212
	// CodeNoRecordsMatch indicates a find or paged read matched nothing.
	// Paged reads treat this as exhaustion, not failure.
	CodeNoRecordsMatch = 401
	// CodeRecordLocked indicates the record is locked by another session.
	CodeRecordLocked = 301
	// CodeModIDMismatch indicates an edit carried a stale modification id.
	CodeModIDMismatch = 306
	// CodeInvalidToken indicates an invalid or expired Data API session token.
	// This is the one code that triggers the single re-login retry.
	CodeInvalidToken = 952
)
