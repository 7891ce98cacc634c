// Package infra holds the technical adapters: MQTT forecast transport,
// metric sinks, the postgres store, the payout rail, device control and push
// notifications. These packages depend only on interfaces defined under
// core.
package infra
