// Package router turns resolved command intents into controller calls.
//
// Dispatch is the single choke point every inbound channel (pipe, telegram,
// scheduler, web panel, mqtt) goes through:
//
//	resolve -> per-target lock -> controller call -> release -> audit
//
// Two guarantees matter to callers:
//
//   - Serialization: commands aimed at the same controller target
//     (object.property) run one at a time, queued FIFO on a mutex held in a
//     lazy registry. Different targets never contend.
//   - Idempotence: a repeated correlation ID within the cache window gets
//     the original CommandResult back without touching the controller, so
//     transport-level retries cannot double-toggle a relay.
//
// Every dispatch is audited, including failed ones and ones that never
// reached the controller.
package router
