package dto

type ShipRequest struct {
	TrackingNumber string  `json:"tracking_number"`
	Carrier        *string `json:"carrier,omitempty"` // detected from the tracking number when omitted
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

type RefundRequest struct {
	Amount *string `json:"amount,omitempty"` // decimal string in major units, empty means full
	Reason string  `json:"reason,omitempty"`
}

type ReturnRequestRequest struct {
	Reason string `json:"reason"`
}

type RejectReturnRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

type ShipReturnRequest struct {
	TrackingNumber string  `json:"tracking_number"`
	Carrier        *string `json:"carrier,omitempty"`
}
