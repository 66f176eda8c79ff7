package sip

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Protocol framing constants.
const (
	// Terminator ends every wire message.
	Terminator = '\r'
	// FieldDelimiter ends every variable-length field. There is no
	// escaping mechanism; values must not contain it.
	FieldDelimiter = '|'
	// ProtocolVersion is the version string advertised in status messages.
	ProtocolVersion = "2.00"
)

// FixedFieldSpec describes one positional, fixed-width field. Identity is
// positional within a message spec, not by code.
type FixedFieldSpec struct {
	Length int
	Label  string
}

// FieldSpec describes one code-prefixed, delimiter-terminated field.
// Codes are unique across the whole schema.
type FieldSpec struct {
	Code  string
	Label string
}

// MessageSpec describes one message type: its 2-character code and the
// ordered fixed-field layout that follows it on the wire.
type MessageSpec struct {
	Code        string
	Label       string
	FixedFields []FixedFieldSpec
}

// Fixed field descriptors from the published SIP2 table.
var (
	FixedDate             = FixedFieldSpec{18, "transaction date"}
	FixedOK               = FixedFieldSpec{1, "ok"}
	FixedUIDAlgo          = FixedFieldSpec{1, "uid algorithm"}
	FixedPwdAlgo          = FixedFieldSpec{1, "pwd algorithm"}
	FixedFeeType          = FixedFieldSpec{2, "fee type"}
	FixedCircStatus       = FixedFieldSpec{2, "circulation status"}
	FixedSecurityMarker   = FixedFieldSpec{2, "security marker"}
	FixedLanguage         = FixedFieldSpec{3, "language"}
	FixedPatronStatus     = FixedFieldSpec{14, "patron status"}
	FixedSummary          = FixedFieldSpec{10, "summary"}
	FixedHoldItemsCount   = FixedFieldSpec{4, "hold items count"}
	FixedOverdueCount     = FixedFieldSpec{4, "overdue items count"}
	FixedChargedCount     = FixedFieldSpec{4, "charged items count"}
	FixedFineCount        = FixedFieldSpec{4, "fine items count"}
	FixedRecallCount      = FixedFieldSpec{4, "recall items count"}
	FixedUnavailHolds     = FixedFieldSpec{4, "unavail holds count"}
	FixedSCRenewalPolicy  = FixedFieldSpec{1, "sc renewal policy"}
	FixedNoBlock          = FixedFieldSpec{1, "no block"}
	FixedNBDueDate        = FixedFieldSpec{18, "nb due date"}
	FixedRenewalOK        = FixedFieldSpec{1, "renewal ok"}
	FixedMagneticMedia    = FixedFieldSpec{1, "magnetic media"}
	FixedDesensitize      = FixedFieldSpec{1, "desensitize"}
	FixedResensitize      = FixedFieldSpec{1, "resensitize"}
	FixedReturnDate       = FixedFieldSpec{18, "return date"}
	FixedAlert            = FixedFieldSpec{1, "alert"}
	FixedStatusCode       = FixedFieldSpec{1, "status code"}
	FixedMaxPrintWidth    = FixedFieldSpec{3, "max print width"}
	FixedProtocolVersion  = FixedFieldSpec{4, "protocol version"}
	FixedOnlineStatus     = FixedFieldSpec{1, "on-line status"}
	FixedCheckinOK        = FixedFieldSpec{1, "checkin ok"}
	FixedCheckoutOK       = FixedFieldSpec{1, "checkout ok"}
	FixedACSRenewalPolicy = FixedFieldSpec{1, "acs renewal policy"}
	FixedStatusUpdateOK   = FixedFieldSpec{1, "status update ok"}
	FixedOfflineOK        = FixedFieldSpec{1, "offline ok"}
	FixedTimeoutPeriod    = FixedFieldSpec{3, "timeout period"}
	FixedRetriesAllowed   = FixedFieldSpec{3, "retries allowed"}
	FixedDateTimeSync     = FixedFieldSpec{18, "date/time sync"}
)

// Variable-length field descriptors from the published SIP2 table.
var (
	FieldPatronID            = FieldSpec{"AA", "patron identifier"}
	FieldItemID              = FieldSpec{"AB", "item identifier"}
	FieldTerminalPwd         = FieldSpec{"AC", "terminal password"}
	FieldPatronPwd           = FieldSpec{"AD", "patron password"}
	FieldPatronName          = FieldSpec{"AE", "personal name"}
	FieldScreenMsg           = FieldSpec{"AF", "screen message"}
	FieldPrintLine           = FieldSpec{"AG", "print line"}
	FieldDueDate             = FieldSpec{"AH", "due date"}
	FieldTitleID             = FieldSpec{"AJ", "title identifier"}
	FieldBlockedCardMsg      = FieldSpec{"AL", "blocked card msg"}
	FieldLibraryName         = FieldSpec{"AM", "library name"}
	FieldTerminalLocation    = FieldSpec{"AN", "terminal location"}
	FieldInstitutionID       = FieldSpec{"AO", "institution id"}
	FieldCurrentLocation     = FieldSpec{"AP", "current location"}
	FieldPermanentLocation   = FieldSpec{"AQ", "permanent location"}
	FieldHoldItems           = FieldSpec{"AS", "hold items"}
	FieldOverdueItems        = FieldSpec{"AT", "overdue items"}
	FieldChargedItems        = FieldSpec{"AU", "charged items"}
	FieldFineItems           = FieldSpec{"AV", "fine items"}
	FieldSequenceNumber      = FieldSpec{"AY", "sequence number"}
	FieldChecksum            = FieldSpec{"AZ", "checksum"}
	FieldHomeAddress         = FieldSpec{"BD", "home address"}
	FieldEmail               = FieldSpec{"BE", "e-mail address"}
	FieldHomePhone           = FieldSpec{"BF", "home phone number"}
	FieldOwner               = FieldSpec{"BG", "owner"}
	FieldCurrencyType        = FieldSpec{"BH", "currency type"}
	FieldCancel              = FieldSpec{"BI", "cancel"}
	FieldTransactionID       = FieldSpec{"BK", "transaction id"}
	FieldValidPatron         = FieldSpec{"BL", "valid patron"}
	FieldRenewedItems        = FieldSpec{"BM", "renewed items"}
	FieldUnrenewedItems      = FieldSpec{"BN", "unrenewed items"}
	FieldFeeAcknowledged     = FieldSpec{"BO", "fee acknowledged"}
	FieldStartItem           = FieldSpec{"BP", "start item"}
	FieldEndItem             = FieldSpec{"BQ", "end item"}
	FieldQueuePosition       = FieldSpec{"BR", "queue position"}
	FieldPickupLocation      = FieldSpec{"BS", "pickup location"}
	FieldFeeTypeVar          = FieldSpec{"BT", "fee type"}
	FieldRecallItems         = FieldSpec{"BU", "recall items"}
	FieldFeeAmount           = FieldSpec{"BV", "fee amount"}
	FieldExpirationDate      = FieldSpec{"BW", "expiration date"}
	FieldSupportedMessages   = FieldSpec{"BX", "supported messages"}
	FieldHoldType            = FieldSpec{"BY", "hold type"}
	FieldHoldItemsLimit      = FieldSpec{"BZ", "hold items limit"}
	FieldOverdueItemsLimit   = FieldSpec{"CA", "overdue items limit"}
	FieldChargedItemsLimit   = FieldSpec{"CB", "charged items limit"}
	FieldFeeLimit            = FieldSpec{"CC", "fee limit"}
	FieldUnavailHoldItems    = FieldSpec{"CD", "unavailable hold items"}
	FieldHoldQueueLength     = FieldSpec{"CF", "hold queue length"}
	FieldFeeIdentifier       = FieldSpec{"CG", "fee identifier"}
	FieldItemProperties      = FieldSpec{"CH", "item properties"}
	FieldSecurityInhibit     = FieldSpec{"CI", "security inhibit"}
	FieldRecallDate          = FieldSpec{"CJ", "recall date"}
	FieldMediaType           = FieldSpec{"CK", "media type"}
	FieldSortBin             = FieldSpec{"CL", "sort bin"}
	FieldHoldPickupDate      = FieldSpec{"CM", "hold pickup date"}
	FieldLoginUID            = FieldSpec{"CN", "login user id"}
	FieldLoginPwd            = FieldSpec{"CO", "login password"}
	FieldLocationCode        = FieldSpec{"CP", "location code"}
	FieldValidPatronPwd      = FieldSpec{"CQ", "valid patron password"}
	FieldCollectionCode      = FieldSpec{"CR", "collection code"}
	FieldCallNumber          = FieldSpec{"CS", "call number"}
	FieldDestinationLocation = FieldSpec{"CT", "destination location"}
	FieldAlertType           = FieldSpec{"CV", "alert type"}
	FieldHoldPatronID        = FieldSpec{"CY", "hold patron id"}
	FieldHoldPatronName      = FieldSpec{"DA", "hold patron name"}
	FieldPatronBirthDate     = FieldSpec{"PB", "patron birth date"}
	FieldPatronClass         = FieldSpec{"PC", "patron class"}
	FieldPatronInetProfile   = FieldSpec{"PI", "patron internet profile"}
)

// Message type descriptors.
var (
	MsgSCStatus = MessageSpec{"99", "SC Status", []FixedFieldSpec{
		FixedStatusCode,
		FixedMaxPrintWidth,
		FixedProtocolVersion,
	}}

	MsgACSStatus = MessageSpec{"98", "ACS Status", []FixedFieldSpec{
		FixedOnlineStatus,
		FixedCheckinOK,
		FixedCheckoutOK,
		FixedACSRenewalPolicy,
		FixedStatusUpdateOK,
		FixedOfflineOK,
		FixedTimeoutPeriod,
		FixedRetriesAllowed,
		FixedDateTimeSync,
		FixedProtocolVersion,
	}}

	MsgLogin = MessageSpec{"93", "Login Request", []FixedFieldSpec{
		FixedUIDAlgo,
		FixedPwdAlgo,
	}}

	MsgLoginResp = MessageSpec{"94", "Login Response", []FixedFieldSpec{
		FixedOK,
	}}

	MsgItemInfo = MessageSpec{"17", "Item Information Request", []FixedFieldSpec{
		FixedDate,
	}}

	MsgItemInfoResp = MessageSpec{"18", "Item Information Response", []FixedFieldSpec{
		FixedCircStatus,
		FixedSecurityMarker,
		FixedFeeType,
		FixedDate,
	}}

	MsgPatronStatus = MessageSpec{"23", "Patron Status Request", []FixedFieldSpec{
		FixedLanguage,
		FixedDate,
	}}

	MsgPatronStatusResp = MessageSpec{"24", "Patron Status Response", []FixedFieldSpec{
		FixedPatronStatus,
		FixedLanguage,
		FixedDate,
	}}

	MsgPatronInfo = MessageSpec{"63", "Patron Information Request", []FixedFieldSpec{
		FixedLanguage,
		FixedDate,
		FixedSummary,
	}}

	MsgPatronInfoResp = MessageSpec{"64", "Patron Information Response", []FixedFieldSpec{
		FixedPatronStatus,
		FixedLanguage,
		FixedDate,
		FixedHoldItemsCount,
		FixedOverdueCount,
		FixedChargedCount,
		FixedFineCount,
		FixedRecallCount,
		FixedUnavailHolds,
	}}

	MsgCheckout = MessageSpec{"11", "Checkout Request", []FixedFieldSpec{
		FixedSCRenewalPolicy,
		FixedNoBlock,
		FixedDate,
		FixedNBDueDate,
	}}

	MsgCheckoutResp = MessageSpec{"12", "Checkout Response", []FixedFieldSpec{
		FixedOK,
		FixedRenewalOK,
		FixedMagneticMedia,
		FixedDesensitize,
		FixedDate,
	}}

	MsgCheckin = MessageSpec{"09", "Checkin Request", []FixedFieldSpec{
		FixedNoBlock,
		FixedDate,
		FixedReturnDate,
	}}

	MsgCheckinResp = MessageSpec{"10", "Checkin Response", []FixedFieldSpec{
		FixedOK,
		FixedResensitize,
		FixedMagneticMedia,
		FixedAlert,
		FixedDate,
	}}
)

// Registry indexes the schema tables by code. It is built once and is
// read-only afterward; there is no registration API past construction.
type Registry struct {
	fieldSpecs   map[string]FieldSpec
	messageSpecs map[string]MessageSpec
}

// NewRegistry builds a registry holding the full published schema.
func NewRegistry() *Registry {
	fields := []FieldSpec{
		FieldPatronID, FieldItemID, FieldTerminalPwd, FieldPatronPwd,
		FieldPatronName, FieldScreenMsg, FieldPrintLine, FieldDueDate,
		FieldTitleID, FieldBlockedCardMsg, FieldLibraryName,
		FieldTerminalLocation, FieldInstitutionID, FieldCurrentLocation,
		FieldPermanentLocation, FieldHoldItems, FieldOverdueItems,
		FieldChargedItems, FieldFineItems, FieldSequenceNumber,
		FieldChecksum, FieldHomeAddress, FieldEmail, FieldHomePhone,
		FieldOwner, FieldCurrencyType, FieldCancel, FieldTransactionID,
		FieldValidPatron, FieldRenewedItems, FieldUnrenewedItems,
		FieldFeeAcknowledged, FieldStartItem, FieldEndItem,
		FieldQueuePosition, FieldPickupLocation, FieldFeeTypeVar,
		FieldRecallItems, FieldFeeAmount, FieldExpirationDate,
		FieldSupportedMessages, FieldHoldType, FieldHoldItemsLimit,
		FieldOverdueItemsLimit, FieldChargedItemsLimit, FieldFeeLimit,
		FieldUnavailHoldItems, FieldHoldQueueLength, FieldFeeIdentifier,
		FieldItemProperties, FieldSecurityInhibit, FieldRecallDate,
		FieldMediaType, FieldSortBin, FieldHoldPickupDate, FieldLoginUID,
		FieldLoginPwd, FieldLocationCode, FieldValidPatronPwd,
		FieldCollectionCode, FieldCallNumber, FieldDestinationLocation,
		FieldAlertType, FieldHoldPatronID, FieldHoldPatronName,
		FieldPatronBirthDate, FieldPatronClass, FieldPatronInetProfile,
	}
	messages := []MessageSpec{
		MsgSCStatus, MsgACSStatus, MsgLogin, MsgLoginResp,
		MsgItemInfo, MsgItemInfoResp, MsgPatronStatus, MsgPatronStatusResp,
		MsgPatronInfo, MsgPatronInfoResp, MsgCheckout, MsgCheckoutResp,
		MsgCheckin, MsgCheckinResp,
	}

	r := &Registry{
		fieldSpecs:   make(map[string]FieldSpec, len(fields)),
		messageSpecs: make(map[string]MessageSpec, len(messages)),
	}
	for _, f := range fields {
		r.fieldSpecs[f.Code] = f
	}
	for _, m := range messages {
		r.messageSpecs[m.Code] = m
	}
	return r
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the shared process-wide registry, built exactly once.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// FieldSpecByCode resolves a variable-field code. Unknown codes resolve to
// a placeholder spec labeled with the raw code so parsing never aborts on
// fields this build does not know about.
func (r *Registry) FieldSpecByCode(code string) FieldSpec {
	if spec, ok := r.fieldSpecs[code]; ok {
		return spec
	}
	log.Warn().Str("code", code).Msg("sip: no field spec for code")
	return FieldSpec{Code: code, Label: code}
}

// MessageSpecByCode resolves a message code. Unknown codes are reported to
// the caller, which decides whether to drop the message or the connection.
func (r *Registry) MessageSpecByCode(code string) (MessageSpec, bool) {
	spec, ok := r.messageSpecs[code]
	return spec, ok
}
