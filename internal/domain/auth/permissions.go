package auth

const (
	RoleEmployee    = "employee"
	RoleEvaluator   = "evaluator"
	RoleHR          = "hr"
	RoleSystemAdmin = "admin"
)

const (
	PermEvaluationRead    = "evaluation.read"
	PermEvaluationWrite   = "evaluation.write"
	PermEvaluationApprove = "evaluation.approve"
	PermEvaluationRevise  = "evaluation.revise"
	PermWeightsManage     = "evaluation.weights"
	PermResultExport      = "evaluation.export"
	PermActivityRead      = "activity.read"
	PermSystemAdmin       = "admin.system"
)

var DefaultPermissions = []string{
	PermEvaluationRead,
	PermEvaluationWrite,
	PermEvaluationApprove,
	PermEvaluationRevise,
	PermWeightsManage,
	PermResultExport,
	PermActivityRead,
	PermSystemAdmin,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermEvaluationRead,
		PermEvaluationWrite,
		PermEvaluationRevise,
	},
	RoleEvaluator: {
		PermEvaluationRead,
		PermEvaluationWrite,
		PermEvaluationApprove,
		PermEvaluationRevise,
		PermResultExport,
	},
	RoleHR: {
		PermEvaluationRead,
		PermEvaluationWrite,
		PermEvaluationApprove,
		PermEvaluationRevise,
		PermWeightsManage,
		PermResultExport,
		PermActivityRead,
	},
	RoleSystemAdmin: {
		PermSystemAdmin,
		PermActivityRead,
	},
}
