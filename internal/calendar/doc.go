// Package calendar renders stored events as an iCalendar (RFC 5545) feed that
// calendar applications can subscribe to. Map links with coordinates become
// GEO properties.
package calendar
