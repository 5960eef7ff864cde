// Package domain holds the core entities shared across the analytics
// backend: attribution events, listener metrics, campaigns, matches,
// scheduled jobs, and the tenant context every operation carries.
package domain
