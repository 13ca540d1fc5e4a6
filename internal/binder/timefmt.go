package binder

import "time"

// serverDateTimeLayout is the date-time layout the backend expects.
const serverDateTimeLayout = "2006-01-02 15:04:05.000"

// deviceCtsAttribute holds the client creation timestamp stamped by Create.
const deviceCtsAttribute = "deviceCts"

// ServerDateTimeFormat renders t the way the backend expects timestamps.
func ServerDateTimeFormat(t time.Time) string {
	return t.Format(serverDateTimeLayout)
}
