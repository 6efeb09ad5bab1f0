package lattice

// Grid 按列压缩存储的上三角格点。
// 第 j 列保存 j+1 个节点 (i=0..j)，i 为下跌次数；i>j 的区域不存储，读取时为 0。
type Grid struct {
	cells []float64
	steps int
}

func newGrid(steps int) *Grid {
	return &Grid{
		steps: steps,
		cells: make([]float64, (steps+1)*(steps+2)/2),
	}
}

// Steps 返回步数 N，格点共 N+1 列。
func (g *Grid) Steps() int { return g.steps }

func (g *Grid) offset(j int) int { return j * (j + 1) / 2 }

// At 读取节点 (i, j)；越界或 i>j 时返回 0。
func (g *Grid) At(i, j int) float64 {
	if i < 0 || j < 0 || j > g.steps || i > j {
		return 0
	}
	return g.cells[g.offset(j)+i]
}

func (g *Grid) set(i, j int, v float64) {
	g.cells[g.offset(j)+i] = v
}

// Column 返回第 j 列的视图（长度 j+1），调用方不得修改。
func (g *Grid) Column(j int) []float64 {
	off := g.offset(j)
	return g.cells[off : off+j+1 : off+j+1]
}

// column 返回可写的第 j 列。
func (g *Grid) column(j int) []float64 {
	off := g.offset(j)
	return g.cells[off : off+j+1]
}
