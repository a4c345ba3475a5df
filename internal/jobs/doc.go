// Package jobs runs receipt verifications asynchronously. Submitted receipts
// are persisted in a Store, a Task naming the job and its receipt is pushed
// to a Queue, and a Processor worker pool verifies them and records the
// result.
package jobs
