package core

import "encoding/json"

// Snapshot is a point-in-time copy of one participant's replica.
//
// Seq is the stream position of the last envelope applied before the
// snapshot was taken, or 0 when the replica was fed without positions.
type Snapshot struct {
	Seq           uint64   `json:"seq,omitempty"`
	PCode         string   `json:"pcode"`
	Bids          []Order  `json:"bids"`
	Asks          []Order  `json:"asks"`
	Trades        []Trade  `json:"trades"`
	Holdings      Holdings `json:"holdings"`
	TimeRemaining *int     `json:"time_remaining,omitempty"`
}

// Validate checks that the snapshot can seed a replica: books must be
// resting orders on the right side and ids must be unique across both.
func (s Snapshot) Validate() error {
	if s.PCode == "" {
		return ErrInvalidArgument
	}
	seen := make(map[int64]struct{}, len(s.Bids)+len(s.Asks))
	check := func(orders []Order, isBid bool) error {
		for _, o := range orders {
			if o.IsBid != isBid {
				return ErrInvalidArgument
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if _, ok := seen[o.OrderID]; ok {
				return ErrOrderExists
			}
			seen[o.OrderID] = struct{}{}
		}
		return nil
	}
	if err := check(s.Bids, true); err != nil {
		return err
	}
	return check(s.Asks, false)
}

// Marshal encodes the snapshot as JSON
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot produced by Marshal
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
