// Package llm 定义了蜂后规划所依赖的大模型调用接口，
// 具体实现位于各自的子包中。
package llm
