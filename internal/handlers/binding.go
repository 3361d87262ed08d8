package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"rateshop-service/internal/models"
)

// knownCarriers are the carrier identifiers accepted on the wire
var knownCarriers = map[models.CarrierType]bool{
	models.CarrierUPS:        true,
	models.CarrierCanadaPost: true,
	models.CarrierFedEx:      true,
	models.CarrierUSPS:       true,
}

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("carrier", func(fl validator.FieldLevel) bool {
			return knownCarriers[models.CarrierType(fl.Field().String())]
		})
	}
}
