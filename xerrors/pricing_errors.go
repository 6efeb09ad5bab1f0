package xerrors

// 定价引擎错误分类。所有错误都源自参数或配置缺陷，重试无意义。
var (
	// ErrInvalidParams 模型参数非法（S0、sigma、T、行权价须为正）。
	ErrInvalidParams = New(ErrInvalidArg, 400101, "invalid model parameters", "S0, sigma, T and strike must be positive", nil)
	// ErrInvalidResolution 步数或分辨率层数非法。
	ErrInvalidResolution = New(ErrInvalidArg, 400102, "invalid resolution", "number of steps and resolutions must be at least 1", nil)
	// ErrUnsupportedModel 未知的树模型。
	ErrUnsupportedModel = New(ErrInvalidArg, 400103, "unsupported model", "supported models: crr, gbm", nil)
	// ErrUnsupportedExercise 未知或不支持的行权方式。
	ErrUnsupportedExercise = New(ErrInvalidArg, 400104, "unsupported exercise style", "supported styles: European, American", nil)
	// ErrUnknownContractType 未知的合约类型。
	ErrUnknownContractType = New(ErrInvalidArg, 400105, "unknown contract type", "supported types: European call, European put, Binary call, Binary put", nil)
	// ErrUnsupportedMethod 未知的定价方法。
	ErrUnsupportedMethod = New(ErrInvalidArg, 400106, "unsupported pricing method", "supported methods: lattice, montecarlo, analytic", nil)
	// ErrArbitrageViolation CRR 无套利条件 r*sqrt(T/N) <= sigma 不成立。
	ErrArbitrageViolation = New(ErrFailedPrecondition, 422101, "arbitrage violation", "r*sqrt(T/N) <= sigma is not fulfilled", nil)
	// ErrDegenerateLattice 上下乘子相等，风险中性概率无定义。
	ErrDegenerateLattice = New(ErrFailedPrecondition, 422102, "degenerate lattice", "up and down multipliers are equal", nil)
	// ErrRegression LSM 回归求解失败。
	ErrRegression = New(ErrInternal, 500101, "regression failed", "least squares solve did not succeed", nil)
)
