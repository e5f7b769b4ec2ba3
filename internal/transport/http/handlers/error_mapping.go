package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AdithyaSrivastava01/Somnium/internal/usecase"
)

const (
	codeValidation = "VALIDATION_ERROR"
	codeInternal   = "INTERNAL_ERROR"
)

// RespondWithError renders err as the error envelope. Authentication failures
// carry their own status and code; anything else is an internal error whose
// detail stays in the logs.
func RespondWithError(c *gin.Context, err error) {
	if authErr, ok := usecase.AsAuthError(err); ok {
		c.JSON(authErr.HTTPStatus(), NewErrorResponse(c, string(authErr.Code()), authErr.Error()))
		return
	}

	if errors.Is(err, usecase.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, codeValidation, err.Error()))
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, codeInternal, "internal server error"))
}

func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, codeValidation, message))
}
