package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"routedesk/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type coordsDTO struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

func (c coordsDTO) coordinate() model.Coordinate {
	return model.Coordinate{Lat: *c.Lat, Lng: *c.Lng}
}

type depotRequest struct {
	coordsDTO
}

type startTimeRequest struct {
	StartTime string `json:"startTime" validate:"required,max=16"`
}

type autoRefreshRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type stopRequest struct {
	Name     string     `json:"name" validate:"max=200"`
	Address  string     `json:"address" validate:"max=500"`
	Priority string     `json:"priority" validate:"omitempty,max=16"`
	Coords   *coordsDTO `json:"coords" validate:"required_without=Query,excluded_with=Query"`
	Query    string     `json:"query" validate:"max=500"`
}

type reorderRequest struct {
	IDs []string `json:"ids" validate:"dive,required"`
}

type customerRequest struct {
	ID      string    `json:"id" validate:"max=64"`
	Name    string    `json:"name" validate:"required,max=200"`
	Address string    `json:"address" validate:"max=500"`
	Coords  coordsDTO `json:"coords" validate:"required"`
}

type customerStopRequest struct {
	Priority string `json:"priority" validate:"omitempty,max=16"`
}

type saveRouteRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type sequenceStopDTO struct {
	ID            string    `json:"id" validate:"required,max=64"`
	Name          string    `json:"name" validate:"max=200"`
	Address       string    `json:"address" validate:"max=500"`
	Priority      string    `json:"priority" validate:"omitempty,max=16"`
	Coords        coordsDTO `json:"coords" validate:"required"`
	EstimatedTime string    `json:"estimatedTime" validate:"max=16"`
	Traffic       string    `json:"traffic" validate:"omitempty,oneof=light moderate heavy"`
}

type sequenceRequest struct {
	Depot     coordsDTO         `json:"depot" validate:"required"`
	StartTime string            `json:"startTime" validate:"max=16"`
	Stops     []sequenceStopDTO `json:"stops" validate:"max=1000,dive"`
}

// validateStruct runs struct tag validation and flattens the failures.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
