// Package flows contains the orchestration behind every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunAuthorize, RunEndSession, ...)
// accepts a typed dependency struct and returns a result carrying a failure
// kind. The Engine maps kinds to public errors, metrics and audit events, so
// flows stay testable with fakes and free of root-package imports.
//
// Flows hold no state between calls and never own the resources they use.
package flows
