package compute

import "github.com/gogpu/compute/native"

// QueueType selects one of the device's execution queues.
type QueueType = native.QueueType

const (
	// QueueCompute runs compute dispatches. Its command lists have the
	// device descriptor heap bound at creation.
	QueueCompute = native.QueueCompute

	// QueueCopy runs transfers.
	QueueCopy = native.QueueCopy
)

// QueueTypes lists every supported queue type.
var QueueTypes = [...]QueueType{QueueCompute, QueueCopy}
