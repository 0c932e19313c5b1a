// Package license implements offline license activation and usage gating
// for the IGPS conversion backend.
//
// The package is organised around a few cooperating pieces:
//
//   - Codec encodes and decodes the 16 character activation keys. A key
//     carries its license type, issue and expiry dates, a short hardware
//     binding and an authenticity tag, all packed into the key itself so
//     verification needs no network access.
//   - Store persists the activation record and the trial counter in a
//     single tamper-evident state file bound to the machine fingerprint.
//   - DeriveStatus turns a store snapshot plus the current fingerprint and
//     clock into one of the five license states.
//   - Manager ties the pieces together and exposes Status, Activate and
//     CheckAndConsume to the service layer.
//
// All failure paths fail closed: a corrupted or transplanted state file
// yields zero trial uses and no activation rather than a fresh trial.
package license
