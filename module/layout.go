package module

// Storage layout, from NodeBase:
//
//	[99][id hi][id lo]                      node record
//	[tag][reg 0..15][(hi lo filter) x 5]    one region per cfgID
const (
	NodeSentinel  byte = 99
	NodeRecordLen      = 3

	RegisterCapacity = 16
	GroupCapacity    = 5
	groupEntryLen    = 3

	// Stride is the size of one module region.
	Stride = 1 + RegisterCapacity + GroupCapacity*groupEntryLen

	// MaxRegisterChunk is the register count carried by one set or return.
	MaxRegisterChunk = 6
)

// RegionBase is the storage offset of the region for cfgID.
func RegionBase(nodeBase int64, cfgID int) int64 {
	return nodeBase + NodeRecordLen + int64(cfgID)*Stride
}

// StorageSize is the storage needed for a node with modules regions.
func StorageSize(nodeBase int64, modules int) int {
	return int(RegionBase(nodeBase, modules))
}
