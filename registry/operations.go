package registry

import "sort"

// Kind classifies an operation as read-only or mutating, so a host can pick
// its consistency policy per call.
type Kind string

const (
	KindQuery  Kind = "query"
	KindUpdate Kind = "update"
)

// Operation names.
const (
	OpCreate           = "create"
	OpGetByID          = "getById"
	OpGetByName        = "getByName"
	OpGetAll           = "getAll"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpUpdateCourse     = "updateCourse"
	OpGetByCourse      = "getByCourse"
	OpGetByLocation    = "getByLocation"
	OpGetByParent      = "getByParent"
	OpGetAdmittedAfter = "getAdmittedAfter"
	OpCount            = "count"
	OpGetParent        = "getParent"
	OpGetByAge         = "getByAge"
	OpExists           = "exists"
	OpAverageAge       = "averageAge"
)

var operationKinds = map[string]Kind{
	OpCreate:           KindUpdate,
	OpGetByID:          KindQuery,
	OpGetByName:        KindQuery,
	OpGetAll:           KindQuery,
	OpUpdate:           KindUpdate,
	OpDelete:           KindUpdate,
	OpUpdateCourse:     KindUpdate,
	OpGetByCourse:      KindQuery,
	OpGetByLocation:    KindQuery,
	OpGetByParent:      KindQuery,
	OpGetAdmittedAfter: KindQuery,
	OpCount:            KindQuery,
	OpGetParent:        KindQuery,
	OpGetByAge:         KindQuery,
	OpExists:           KindQuery,
	OpAverageAge:       KindQuery,
}

// Names used by the first, canister-hosted version of the registry.
var legacyNames = map[string]string{
	"createStudent":            OpCreate,
	"getStudentById":           OpGetByID,
	"getStudentByName":         OpGetByName,
	"getAllStudents":           OpGetAll,
	"updateStudent":            OpUpdate,
	"deleteStudent":            OpDelete,
	"updateStudentCourse":      OpUpdateCourse,
	"getStudentsByCourse":      OpGetByCourse,
	"getStudentsByLocation":    OpGetByLocation,
	"getStudentsByParent":      OpGetByParent,
	"getStudentsAdmittedAfter": OpGetAdmittedAfter,
	"countStudents":            OpCount,
	"getStudentParent":         OpGetParent,
	"getStudentsByAge":         OpGetByAge,
	"checkStudentExists":       OpExists,
	"getAverageStudentAge":     OpAverageAge,
}

// Canonical resolves op, or one of its legacy names, to the operation name.
func Canonical(op string) (string, bool) {
	if _, ok := operationKinds[op]; ok {
		return op, true
	}
	name, ok := legacyNames[op]
	return name, ok
}

// KindOf reports the kind of op. Legacy names are accepted.
func KindOf(op string) (Kind, bool) {
	name, ok := Canonical(op)
	if !ok {
		return "", false
	}
	return operationKinds[name], true
}

// Operations returns every operation name, sorted.
func Operations() []string {
	ops := make([]string, 0, len(operationKinds))
	for op := range operationKinds {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
