// Package errors provides standardized error handling for vumigo components.
// It includes error classification (transient / invalid / fatal), standard
// error variables, and helper functions for consistent error wrapping across
// the platform.
//
// Classification drives retry policy: transient errors are candidates for
// retry with backoff, invalid errors indicate caller or data problems that
// will not improve on retry, and fatal errors should stop the worker and be
// escalated to the process supervisor.
package errors
