package core

import "github.com/signalsfoundry/connection-matrix/model"

// Observer receives push notifications for the presentation boundary.
// Section ranges are inclusive. Cell coordinates are always talker
// section first, whatever the presented orientation.
type Observer interface {
	BeginInsert(side model.Side, first, last int)
	EndInsert(side model.Side, first, last int)
	BeginRemove(side model.Side, first, last int)
	EndRemove(side model.Side, first, last int)
	BeginReset()
	EndReset()
	CellChanged(talker, listener int)
	HeaderChanged(side model.Side, section int)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) BeginInsert(model.Side, int, int) {}
func (NopObserver) EndInsert(model.Side, int, int)   {}
func (NopObserver) BeginRemove(model.Side, int, int) {}
func (NopObserver) EndRemove(model.Side, int, int)   {}
func (NopObserver) BeginReset()                      {}
func (NopObserver) EndReset()                        {}
func (NopObserver) CellChanged(int, int)             {}
func (NopObserver) HeaderChanged(model.Side, int)    {}

// Observers fans notifications out in registration order.
type Observers []Observer

func (o Observers) BeginInsert(side model.Side, first, last int) {
	for _, ob := range o {
		ob.BeginInsert(side, first, last)
	}
}

func (o Observers) EndInsert(side model.Side, first, last int) {
	for _, ob := range o {
		ob.EndInsert(side, first, last)
	}
}

func (o Observers) BeginRemove(side model.Side, first, last int) {
	for _, ob := range o {
		ob.BeginRemove(side, first, last)
	}
}

func (o Observers) EndRemove(side model.Side, first, last int) {
	for _, ob := range o {
		ob.EndRemove(side, first, last)
	}
}

func (o Observers) BeginReset() {
	for _, ob := range o {
		ob.BeginReset()
	}
}

func (o Observers) EndReset() {
	for _, ob := range o {
		ob.EndReset()
	}
}

func (o Observers) CellChanged(talker, listener int) {
	for _, ob := range o {
		ob.CellChanged(talker, listener)
	}
}

func (o Observers) HeaderChanged(side model.Side, section int) {
	for _, ob := range o {
		ob.HeaderChanged(side, section)
	}
}
