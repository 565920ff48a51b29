// Package idcheck validates the identity documents and contact details
// collected during onboarding: South African ID numbers (checksum and
// embedded date of birth), passport numbers, and phone numbers.
package idcheck
