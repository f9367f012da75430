package payment

import (
	"net/http"

	"github.com/noah-isme/backend-invoicing/internal/common"
)

func errInvoiceNotFound(err error) *common.AppError {
	return common.NewAppError("NOT_FOUND", "invoice not found", http.StatusNotFound, err)
}

func errAlreadyPaid() *common.AppError {
	return common.NewAppError("ALREADY_PAID", "invoice is already paid", http.StatusBadRequest, nil)
}

func errNoSavedMethod() *common.AppError {
	return common.NewAppError("NO_SAVED_METHOD", "customer has no saved card on file", http.StatusBadRequest, nil)
}

func errValidation(message string) *common.AppError {
	return common.NewAppError("VALIDATION", message, http.StatusBadRequest, nil)
}

func errGateway(ge *GatewayError) *common.AppError {
	appErr := common.NewAppError("GATEWAY_ERROR", ge.Message, http.StatusBadRequest, ge)
	appErr.Details = map[string]string{"code": ge.Code, "type": ge.Type}
	return appErr
}

func errInternal(message string, err error) *common.AppError {
	return common.NewAppError("INTERNAL", message, http.StatusInternalServerError, err)
}
