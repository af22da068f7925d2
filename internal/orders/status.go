package orders

type Status string

const (
	StatusProcessing Status = "Processing"
	StatusCancelled  Status = "Cancelled"
	StatusCompleted  Status = "Completed"
)

// Stage is the persisted position of an order in the fulfilment saga.
type Stage string

const (
	StageCreated         Stage = "CREATED" // not yet persisted
	StagePendingPayment  Stage = "PENDING_PAYMENT"
	StagePaymentVerified Stage = "PAYMENT_VERIFIED"
	StagePaymentFailed   Stage = "PAYMENT_FAILED"
	StageShipmentPending Stage = "SHIPMENT_PENDING"
	StageShipmentCreated Stage = "SHIPMENT_CREATED"
	StageShipmentFailed  Stage = "SHIPMENT_FAILED"
	StageCompleted       Stage = "COMPLETED"
	StageCancelled       Stage = "CANCELLED"
)

var validNext = map[Stage]map[Stage]bool{
	StageCreated:         {StagePendingPayment: true, StageShipmentPending: true},
	StagePendingPayment:  {StagePaymentVerified: true, StagePaymentFailed: true, StageCancelled: true},
	StagePaymentVerified: {StageShipmentPending: true, StageCancelled: true},
	StagePaymentFailed:   {StageCancelled: true},
	StageShipmentPending: {StageShipmentCreated: true, StageShipmentFailed: true, StageCancelled: true},
	StageShipmentFailed:  {StageShipmentPending: true, StageCancelled: true},
	StageShipmentCreated: {StageCompleted: true, StageCancelled: true},
	StageCompleted:       {},
	StageCancelled:       {},
}

func CanTransition(from, to Stage) bool {
	return validNext[from][to]
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled
}

func (s Stage) OrderStatus() Status {
	switch s {
	case StageCompleted:
		return StatusCompleted
	case StageCancelled:
		return StatusCancelled
	default:
		return StatusProcessing
	}
}

var shipmentNext = map[ShipmentStatus]map[ShipmentStatus]bool{
	ShipmentPending:    {ShipmentProcessing: true, ShipmentShipped: true, ShipmentCancelled: true},
	ShipmentProcessing: {ShipmentShipped: true, ShipmentDelivered: true, ShipmentCancelled: true},
	ShipmentShipped:    {ShipmentDelivered: true, ShipmentCancelled: true},
	ShipmentDelivered:  {},
	ShipmentCancelled:  {},
}

// CanAdvanceShipment reports whether a carrier-reported status may replace the current one.
func CanAdvanceShipment(from, to ShipmentStatus) bool {
	return shipmentNext[from][to]
}
