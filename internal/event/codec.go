package event

import (
	"encoding/json"
	"fmt"
)

// ParseEventType maps an operation name, as produced by EventType.String,
// back to its discriminator.
func ParseEventType(name string) (EventType, error) {
	for et := EventTypeAddBank; et <= EventTypePriceFeedUpdate; et++ {
		if et.String() == name {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown operation type %q", name)
}

// New returns an empty operation value for et.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeAddBank:
		return &AddBank{}, nil
	case EventTypeConfigureBankEmode:
		return &ConfigureBankEmode{}, nil
	case EventTypeAccrueInterest:
		return &AccrueInterest{}, nil
	case EventTypeCreateAccount:
		return &CreateAccount{}, nil
	case EventTypeCloseAccount:
		return &CloseAccount{}, nil
	case EventTypeDeposit:
		return &Deposit{}, nil
	case EventTypeWithdraw:
		return &Withdraw{}, nil
	case EventTypeBorrow:
		return &Borrow{}, nil
	case EventTypeRepay:
		return &Repay{}, nil
	case EventTypeFlashloanStart:
		return &FlashloanStart{}, nil
	case EventTypeFlashloanEnd:
		return &FlashloanEnd{}, nil
	case EventTypeLiquidate:
		return &Liquidate{}, nil
	case EventTypeHandleBankruptcy:
		return &HandleBankruptcy{}, nil
	default:
		// price feeds travel as oracle images, see oracle.DecodeAccount
		return nil, fmt.Errorf("no JSON form for operation type %s", et)
	}
}

// Decode parses the JSON payload of a logged or submitted operation.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
