package services

import (
	"github.com/transitline/booking-backend/internal/models"
)

// insurancePrices is the fixed premium table. Premiums are never accepted
// from the wire; the selected policy type is looked up here so a client
// cannot manipulate its own price.
var insurancePrices = map[models.InsuranceType]float64{
	models.InsuranceBasic:         20,
	models.InsuranceDelay:         15,
	models.InsuranceComprehensive: 35,
}

// InsurancePrice returns the premium for a policy type.
func InsurancePrice(t models.InsuranceType) (float64, bool) {
	price, ok := insurancePrices[t]
	return price, ok
}

// Quote is the priced outcome of a booking request, computed once at create
// time and frozen onto the order. Later catalog price changes never touch
// existing orders.
type Quote struct {
	BasePrice      float64
	PassengerCount int
	InsuranceTotal float64
	Total          float64
	Passengers     models.PassengerList
}

// PriceBooking computes basePrice * passengerCount plus the premium of every
// selected policy, and materializes the passenger snapshots that go on the
// order. applyBasicToAll gives every passenger without an explicit selection
// the basic policy (the order-level insurance flag).
//
// Pure: no clock, no storage, no randomness.
func PriceBooking(basePrice float64, passengers []models.PassengerRequest, applyBasicToAll bool) (*Quote, error) {
	if len(passengers) == 0 {
		return nil, models.NewValidationError("passengers", "at least one passenger is required")
	}
	if basePrice < 0 {
		return nil, models.NewValidationError("base_price", "must not be negative")
	}

	quote := &Quote{
		BasePrice:      basePrice,
		PassengerCount: len(passengers),
		Passengers:     make(models.PassengerList, 0, len(passengers)),
	}

	for _, p := range passengers {
		idType := p.IDType
		if idType == "" {
			idType = models.DefaultIDType
		}

		policy := p.Insurance
		if policy == "" && applyBasicToAll {
			policy = models.InsuranceBasic
		}

		passenger := models.Passenger{
			Name:     p.Name,
			IDType:   idType,
			IDNumber: p.IDNumber,
			Phone:    p.Phone,
		}

		if policy != "" {
			price, ok := InsurancePrice(policy)
			if !ok {
				return nil, models.NewValidationError("insurance", "unknown insurance type")
			}
			passenger.Insurance = models.Insurance{Purchased: true, Type: policy, Price: price}
			quote.InsuranceTotal += price
		}

		quote.Passengers = append(quote.Passengers, passenger)
	}

	quote.Total = basePrice*float64(quote.PassengerCount) + quote.InsuranceTotal
	return quote, nil
}
