// Package swarm 实现蜂群编排的核心循环：
// 蜂后规划、工作智能体并发执行、结果汇总与质量评估，
// 直到评分达到阈值或迭代次数耗尽。
package swarm
