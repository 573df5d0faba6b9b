// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Record: A single occupancy statistic from a collector agent
//   - Key: The (agent, channel, timestamp) uniqueness tuple
//   - RecordBatch: A collection of records for batch processing
package types
