package service

// KeyGuard exposes keyGuard to the external tests.
type KeyGuard = keyGuard
